package main

import "github.com/monkebot/monkebot/cmd"

func main() {
	cmd.Execute()
}
