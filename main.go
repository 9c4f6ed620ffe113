package main

import "github.com/ebalodis/faceframe/cmd"

func main() {
	cmd.Execute()
}
