/*
Package jsbridge embeds a JavaScript engine behind a small evaluation API.

A Runtime owns one engine handle and keeps exactly one execution context
current on it. Values never cross the boundary as live references: host
arguments are JSON-encoded and spliced into the evaluated source, and every
result is produced by JSON.stringify inside the engine and decoded on the
host side.

	rt, err := jsbridge.NewDefault()
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.Compile("function double(x) { return x * 2; }")
	v, err := rt.Call("double", 21) // float64(42)

Every evaluation is preceded by the preamble: the result replacer followed
by all fragments added with Compile and Require, in order. After
Config.RotateEvery evaluations the context is replaced; globals set with
SetVariable are lost, preamble fragments are not.

Call, CallForEach, SetVariable and GetVariable splice their identifier or
name argument into the script as source text. Treat it as code.

A Runtime is not safe for concurrent use, and a running script cannot be
interrupted.
*/
package jsbridge
