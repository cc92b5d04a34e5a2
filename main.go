package main

import "github.com/ValentinKolb/dFrag/cmd"

func main() {
	cmd.Execute()
}
