// Package main is the entry point for geoproxy.
package main

func main() {
	Execute()
}
