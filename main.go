package main

import "github.com/KaramelBytes/districtmatch/cmd"

func main() {
	cmd.Execute()
}
