package scaffold

import (
	"fmt"
	"os"
)

// CheckExisting returns an error when bandscan.yml already exists, so init
// refuses to clobber a configured project without --force.
func CheckExisting() error {
	if _, err := os.Stat("bandscan.yml"); err == nil {
		return fmt.Errorf(`project already initialized

Found existing: bandscan.yml

Use 'bandscan init --force' to reinitialize (this will overwrite existing configuration)`)
	}
	return nil
}
