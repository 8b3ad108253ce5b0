// Command proofflow checks and tops up Filecoin warm storage payment
// allowances from the command line.
package main

func main() {
	Execute()
}
