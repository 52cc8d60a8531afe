// Command foxbuild runs CI workflows defined in a repository's foxfile.yml,
// either once against a commit already on disk (local mode) or continuously
// as a GitHub App webhook listener (standalone mode).
package main

func main() {
	Execute()
}
