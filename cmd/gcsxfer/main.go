package main

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		exitOnError(err)
	}
}
