package cryptox

import (
	"testing"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKDFParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  KDFParams
		wantErr bool
	}{
		{name: "defaults", params: DefaultKDFParams()},
		{name: "test params", params: TestKDFParams()},
		{name: "max time", params: KDFParams{Time: MaxKDFTime, Memory: 8 * 1024, Threads: 1}},
		{name: "max memory", params: KDFParams{Time: 1, Memory: MaxKDFMemory, Threads: 1}},
		{name: "minimum memory per lane", params: KDFParams{Time: 1, Memory: 32, Threads: 4}},
		{name: "zero time", params: KDFParams{Memory: 8 * 1024, Threads: 1}, wantErr: true},
		{name: "time above max", params: KDFParams{Time: MaxKDFTime + 1, Memory: 8 * 1024, Threads: 1}, wantErr: true},
		{name: "zero threads", params: KDFParams{Time: 1, Memory: 8 * 1024}, wantErr: true},
		{name: "memory below lanes", params: KDFParams{Time: 1, Memory: 8, Threads: 4}, wantErr: true},
		{name: "memory above max", params: KDFParams{Time: 1, Memory: MaxKDFMemory + 1, Threads: 1}, wantErr: true},
		{name: "zero value", params: KDFParams{}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, common.ErrValidation)
				return
			}
			assert.NoError(t, err)
		})
	}
}
