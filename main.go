package main

import (
	_ "time/tzdata" // bugreport timezones must resolve even without a system zoneinfo db

	"milktea/cmd"
)

func main() {
	cmd.Execute()
}
