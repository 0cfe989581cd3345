package cli

import "github.com/bdobrica/Kioku/common/environment"

func envConfigPath() string {
	return environment.StringOr("KIOKU_CONFIG", "")
}
