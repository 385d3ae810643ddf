package main

import "seclens/cmd"

func main() {
	cmd.Execute()
}
