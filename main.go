package main

import "github.com/getrandompcmol/qmbatch/cmd"

func main() {
	cmd.Execute()
}
