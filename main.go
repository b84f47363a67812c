package main

import "github.com/Zerofisher/pcapscrub/cmd"

func main() {
	cmd.Execute()
}
