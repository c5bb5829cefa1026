package main

import "github.com/terraconstructs/gridgate/cmd"

func main() {
	cmd.Execute()
}
