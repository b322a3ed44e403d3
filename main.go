package main

import "amora-calls-backend/cmd"

func main() {
	cmd.Run()
}
