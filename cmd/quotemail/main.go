package main

import "github.com/lu-zhengda/quotemail/internal/cli"

func main() {
	cli.Execute()
}
