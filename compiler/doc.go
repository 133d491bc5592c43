/*

Process of compilation

IR Listing (irfile: .yaml, .irp) ->
	assemble (back) ->
Object Module (obj) ->
	write (elfobj) ->
Relocatable Object (.o) ->
	read (elfobj) ->
Object Module (obj) ->
	link ->
Binary Executable

Start stub module (back.StartModule) goes first and calls main.

*/
package compiler
