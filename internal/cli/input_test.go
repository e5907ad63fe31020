package cli

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rdr(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestGetSimpleText(t *testing.T) {
	var out bytes.Buffer
	got, err := GetSimpleText(rdr("hello world\n"), "Name?", &out)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
	assert.Equal(t, "Name?\n> ", out.String())
}

func TestGetSimpleTextEOF(t *testing.T) {
	var out bytes.Buffer
	got, err := GetSimpleText(rdr("lastline"), "Name?", &out)
	require.NoError(t, err)
	assert.Equal(t, "lastline", got)

	_, err = GetSimpleText(rdr(""), "Name?", &out)
	assert.Error(t, err)
}

func TestGetPassword_Error(t *testing.T) {
	old := readPassword
	defer func() { readPassword = old }()
	readPassword = func(int) ([]byte, error) {
		return nil, errors.New("boom")
	}
	var out bytes.Buffer
	_, err := GetPassword(&out, "Passphrase: ")
	require.Error(t, err)
	assert.Equal(t, "Passphrase: \n", out.String())
}

func TestGetNewPassword(t *testing.T) {
	tests := []struct {
		name    string
		inputs  []string
		want    string
		wantErr error
	}{
		{name: "match", inputs: []string{"Correct1!", "Correct1!"}, want: "Correct1!"},
		{name: "mismatch", inputs: []string{"Correct1!", "Correct2!"}, wantErr: common.ErrValidation},
		{name: "empty", inputs: []string{""}, wantErr: common.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubPasswords(t, tt.inputs...)
			var out bytes.Buffer
			got, err := GetNewPassword(&out, "New passphrase: ")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
			assert.Contains(t, out.String(), "Repeat to confirm: ")
		})
	}
}

func TestParseTags(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", []string{}},
		{"a", []string{"a"}},
		{" a , b,,c ", []string{"a", "b", "c"}},
		{" , ", []string{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseTags(tt.in), "input %q", tt.in)
	}
}
