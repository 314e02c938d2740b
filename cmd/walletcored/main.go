package main

import "github.com/amjuarez/bytecoin-sub000/cmd/walletcored/cmd"

func main() {
	cmd.Execute()
}
