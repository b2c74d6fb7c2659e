package main

import "github.com/vkolb/tntgo/cmd/tntcli"

func main() {
	tntcli.Execute()
}
