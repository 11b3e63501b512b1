package verflag

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"liftgateway/pkg/version"
)

var versionFlag bool

func AddFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&versionFlag, "version", false, "Print version information and quit")
}

// PrintAndExitIfRequested terminates the program when --version was given.
func PrintAndExitIfRequested() {
	if versionFlag {
		fmt.Printf("lift-gateway %s\n", version.Get())
		os.Exit(0)
	}
}
