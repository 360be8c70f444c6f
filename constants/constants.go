package constants

var (
	VERSION = "0.3.0"

	// Env var consulted for the config file location.
	MEMTRIAGE_CONFIG = "MEMTRIAGE_CONFIG"
)

const (
	// The plugin used to identify Linux kernels before the rest of
	// the batch runs.
	BANNERS_PLUGIN = "banners.Banners"

	OS_LINUX   = "Linux"
	OS_WINDOWS = "Windows"
	OS_MAC     = "Mac"
	OS_OTHER   = "Other"

	FAMILY_DEBIAN = "Debian"
	FAMILY_UBUNTU = "Ubuntu"

	// ServiceCredential.Service values.
	SERVICE_VIRUSTOTAL = 1

	// Rows with children carry them under this key.
	CHILDREN_KEY = "children"

	// Parameter controlling local file capture.
	DUMP_PARAMETER = "dump"

	// File parameters are passed to plugins with this prefix.
	FILE_PARAMETER_PREFIX = "file:"

	STAGING_PATTERN = "tmp_*.vol3"
)

// Architectures we recognize in a kernel banner.
var OS_ARCHITECTURES = []string{
	"x86", "x64", "x86_64", "amd64", "i386", "i686",
	"arm", "arm64", "aarch64",
}

func IsKnownArchitecture(arch string) bool {
	for _, a := range OS_ARCHITECTURES {
		if a == arch {
			return true
		}
	}
	return false
}
