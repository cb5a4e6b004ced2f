package main

import (
	"animeagg/cmd/animeagg/commands"
	"animeagg/lib/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
