package main

import "github.com/dbsmedya/cargowhy/cmd/cargowhy/cmd"

func main() {
	cmd.Execute()
}
