/*
Package session implements the server side of the terminal bridge: spawning
interactive shells on pseudo-terminals and multiplexing them to WebSocket
connections as JSON frames.

A Session pairs exactly one shell process (the Adapter) with at most one live
connection. Connections are replaceable: a reconnecting client reattaches to
its existing Session and the previous connection is closed, while the shell
keeps running. Only an explicit destroy (the user closing the tab) terminates
the shell.

There is one frame envelope in both directions, discriminated by the "type"
field. The schema is described in frame.go. The protocol proceeds as follows:

 1. The client opens a WebSocket connection, optionally naming an existing
    session id and an initial terminal geometry.
 2. The server resolves or creates the Session and lazily spawns the shell.
 3. The client sends "stdin"/"input" and "resize" frames; the server sends
    "output" frames in PTY arrival order.
 4. When the shell exits, the server sends a final "exit" frame. The Session
    survives; reattaching spawns a fresh shell.
 5. A close with the normal closure code destroys the Session and its shell.
    Any other close detaches only.

The server performs no output buffering for detached sessions: output produced
while no connection is attached is dropped.
*/
package session
