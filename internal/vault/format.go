package vault

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/cryptox"
)

const (
	// formatVersion is the current on-disk vault format.
	formatVersion = 1

	kdfArgon2id = "argon2id"
)

// ErrUnsupportedVersion is returned when a vault file was written by a newer
// format or uses an unknown key derivation function.
var ErrUnsupportedVersion = errors.New("unsupported vault format version")

type kdfHeader struct {
	Algo    string `json:"algo"`
	Time    uint32 `json:"time"`
	Memory  uint32 `json:"memory"`
	Threads uint8  `json:"threads"`
}

// vaultFile is the JSON document stored at the vault path.
type vaultFile struct {
	Version    int       `json:"version"`
	KDF        kdfHeader `json:"kdf"`
	Salt       string    `json:"salt"`
	Nonce      string    `json:"nonce"`
	Ciphertext string    `json:"ciphertext"`
}

func headerFor(p cryptox.KDFParams) kdfHeader {
	return kdfHeader{Algo: kdfArgon2id, Time: p.Time, Memory: p.Memory, Threads: p.Threads}
}

func (h kdfHeader) params() cryptox.KDFParams {
	return cryptox.KDFParams{Time: h.Time, Memory: h.Memory, Threads: h.Threads}
}

// additionalData binds the unencrypted header to the ciphertext so that
// changing the version, KDF parameters or salt fails authentication.
func additionalData(version int, kdf kdfHeader, salt []byte) []byte {
	ad := make([]byte, 0, 64+len(salt))
	ad = append(ad, "vaultkeeper"...)
	ad = binary.BigEndian.AppendUint32(ad, uint32(version))
	ad = append(ad, kdf.Algo...)
	ad = binary.BigEndian.AppendUint32(ad, kdf.Time)
	ad = binary.BigEndian.AppendUint32(ad, kdf.Memory)
	ad = append(ad, kdf.Threads)
	ad = append(ad, salt...)
	return ad
}

// decoded is a parsed and sanity-checked vaultFile.
type decoded struct {
	version    int
	kdf        kdfHeader
	salt       []byte
	nonce      []byte
	ciphertext []byte
}

// decode validates f. Structural damage is reported as an authentication
// failure, the same way a wrong passphrase is.
func decode(f vaultFile) (*decoded, error) {
	if f.Version < 1 {
		return nil, common.ErrAuthentication
	}
	if f.Version > formatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, f.Version)
	}
	if f.KDF.Algo != kdfArgon2id {
		return nil, fmt.Errorf("%w: kdf %q", ErrUnsupportedVersion, f.KDF.Algo)
	}
	// Bounded so a crafted header cannot make unlocking exhaust memory or CPU.
	k := f.KDF
	if err := k.params().Validate(); err != nil {
		return nil, common.ErrAuthentication
	}

	salt, err := base64.StdEncoding.DecodeString(f.Salt)
	if err != nil || len(salt) == 0 {
		return nil, common.ErrAuthentication
	}
	nonce, err := base64.StdEncoding.DecodeString(f.Nonce)
	if err != nil || len(nonce) != cryptox.NonceSize {
		return nil, common.ErrAuthentication
	}
	ct, err := base64.StdEncoding.DecodeString(f.Ciphertext)
	if err != nil {
		return nil, common.ErrAuthentication
	}

	return &decoded{version: f.Version, kdf: k, salt: salt, nonce: nonce, ciphertext: ct}, nil
}
