package main

import (
	_ "time/tzdata"

	"github.com/catalystneuro/schneider-lab-to-nwb/cmd"
)

func main() {
	cmd.Execute()
}
