package main

import "github.com/andresmejia3/facesift/cmd"

func main() {
	cmd.Execute()
}
