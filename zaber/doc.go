// Package zaber implements the Zaber ASCII protocol: a line oriented,
// human readable command/reply protocol for motion controllers.
//
// Wire format:
//
//	command: /<dev> <axis> [<id>] <keyword...> [<params...>][:<lrc>]\n
//	reply:   @<dev> <axis> [<id>] <OK|RJ> <IDLE|BUSY> <flag|--> <data>[:<lrc>]\r\n
//	info:    #<dev> <axis> <text>[:<lrc>]\r\n
//	alert:   !<dev> <axis> <IDLE|BUSY> <flag|--> [<data>][:<lrc>]\r\n
//
// Example session:
//
//	/01 0 home
//	@01 0 OK BUSY WR 0
//	/01 1 move abs 65000000
//	@01 1 OK BUSY -- 0
//	/01 1 get pos
//	@01 1 OK IDLE -- 65000000
//
// Commands and messages are plain values; Client correlates replies with
// the command that caused them and routes alerts to an observer.
package zaber
