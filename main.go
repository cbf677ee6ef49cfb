package main

import "github.com/blive-rec/blive/cmd"

func main() {
	cmd.Execute()
}
