//go:build !(linux || darwin)

package daemon

import (
	"fmt"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
)

func newPIDService(goos string, _ Options) (Service, error) {
	return nil, fmt.Errorf("%w: %s", common.ErrUnsupportedPlatform, goos)
}
