// Command gse runs the ground-side link and safety core of the test stand.
package main

func main() {
	Execute()
}
