// Command eopkg is a thin cobra wrapper over internal/planner: one
// subcommand per transaction operation, no independent business logic.
package main

func main() {
	Execute()
}
