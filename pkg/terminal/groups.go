package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	sessionCmds
	breakCmds
	runCmds
	dataCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Managing the debug session", sessionCmds},
	{"Running the program", runCmds},
	{"Manipulating breakpoints", breakCmds},
	{"Viewing program variables, memory and snapshots", dataCmds},
	{"Other commands", otherCmds},
}
