package main

import "github.com/arcward/guildsteward/cmd"

func main() {
	cmd.Execute()
}
