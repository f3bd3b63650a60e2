package main

import "table-sync/cmd"

func main() {
	cmd.Execute()
}
