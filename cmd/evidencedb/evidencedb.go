package main

import (
    "flag"
    "fmt"
    "os"
    "sort"
)

var optConfigFile *string
var optHost *string
var optPort *int
var optNode *uint64
var optEven *bool
var optTargetFile *string
var optTransaction *string
var optCheck *bool

func init() {
    optConfigFile = flag.String("conf", "", "Config file to use")
    optHost = flag.String("host", "", "Host of the node being added")
    optPort = flag.Int("port", 0, "Port of the node being added")
    optNode = flag.Uint64("node", 0, "Index of the node being removed")
    optEven = flag.Bool("even", false, "Derive an equal share target table from current membership")
    optTargetFile = flag.String("target", "", "File containing a target partition table in JSON form")
    optTransaction = flag.String("transaction", "", "Id of the rebalance transaction being recovered")
    optCheck = flag.Bool("check", false, "Validate the operation without applying it")
}

type commandSpec struct {
    run func()
    usage string
}

var commands map[string]commandSpec = make(map[string]commandSpec)

func registerCommand(name string, run func(), usage string) {
    commands[name] = commandSpec{ run: run, usage: usage }
}

func usage() {
    fmt.Fprintf(os.Stderr, "Usage: evidencedb <command> [arguments]\n\nCommands:\n")

    names := make([]string, 0, len(commands))

    for name := range commands {
        names = append(names, name)
    }

    sort.Strings(names)

    for _, name := range names {
        fmt.Fprintf(os.Stderr, "\n%s", commands[name].usage)
    }
}

func main() {
    if len(os.Args) < 2 {
        usage()
        os.Exit(1)
    }

    command, ok := commands[os.Args[1]]

    if !ok {
        fmt.Fprintf(os.Stderr, "%s is not a valid command\n\n", os.Args[1])
        usage()
        os.Exit(1)
    }

    flag.CommandLine.Parse(os.Args[2:])

    command.run()
}
