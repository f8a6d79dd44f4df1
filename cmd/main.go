package main

import (
	"fmt"

	zest "github.com/ethereum-optimism/infra/op-zest"
	"github.com/ethereum-optimism/infra/op-zest/registry"
	_ "github.com/ethereum-optimism/infra/op-zest/zests"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	zest.Main(registry.Default, fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate))
}
