package orchestrator

import (
	"strings"

	"github.com/Velocidex/ordereddict"
	"www.velocidex.com/golang/memtriage/constants"
	"www.velocidex.com/golang/memtriage/models"
)

const linux_banner_marker = "Linux version"

// Fill in the kernel details of the dump from the first banner
// which looks like
//
//	Linux version 5.10.0-amd64 (debian-kernel@lists.debian.org) ...
//
// An unknown family is not an error: the banner is kept in the
// dump's description instead. Details from an earlier identification
// are replaced. Returns false when no banner matched.
func CheckOS(dump *models.Dump, rows []*ordereddict.Dict) bool {
	for _, row := range rows {
		banner, _ := row.GetString("Banner")
		banner = strings.TrimSpace(banner)
		if !strings.Contains(banner, linux_banner_marker) {
			continue
		}

		fields := strings.Fields(banner)
		if len(fields) < 3 {
			continue
		}

		info := fields[2]
		dump.Kernel = info
		dump.Family = ""
		dump.Architecture = ""

		parts := strings.Split(info, "-")
		arch := parts[len(parts)-1]
		if constants.IsKnownArchitecture(arch) {
			dump.Architecture = arch
		}

		lower := strings.ToLower(banner)
		switch {
		case strings.Contains(lower, "debian"):
			dump.Family = constants.FAMILY_DEBIAN
		case strings.Contains(lower, "ubuntu"):
			dump.Family = constants.FAMILY_UBUNTU
		default:
			dump.Description = banner
		}
		return true
	}
	return false
}
