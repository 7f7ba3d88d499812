package main

import (
	"github.com/scenexproject/scenex/cmd/scenex/cmd"
	"github.com/scenexproject/scenex/internal/common"
)

func main() {
	common.ConfigureCommandLineLogging()
	cmd.Execute()
}
