package main

import (
	"fmt"
	"os"

	"sage/internal/ipc"
)

const usage = `usage: sage-ctl <command> [arg]

commands:
  trigger          record hands-free, stop on silence
  ask <text>       submit a typed query
  ask-file <path>  transcribe an audio file and submit it
  speech           play/pause the spoken explanation
  stop             stop playback
  status           print the pipeline phase
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(2)
	}

	msg := ipc.ControlMessage{Cmd: os.Args[1]}
	if len(os.Args) > 2 {
		msg.Arg = os.Args[2]
	}

	reply, err := ipc.Send(msg)
	if err != nil {
		fmt.Println("sage-daemon not running:", err)
		os.Exit(1)
	}

	if !reply.OK {
		if reply.Info != "" {
			fmt.Println(reply.Info)
		}
		os.Exit(1)
	}
	if reply.Info != "" {
		fmt.Println(reply.Info)
	}
}
