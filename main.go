package main

import "example.com/backstage/services/ota/cmd"

func main() {
	cmd.Execute()
}
