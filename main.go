package main

import "autoclip/cmd"

func main() {
	cmd.Execute()
}
