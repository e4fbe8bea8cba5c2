/*
Package wsrun runs processes on a remote server, streaming stdin (client->server) and stdout & stderr lines (server->client) over a WebSocket.

Runs are scoped to the WebSocket connection: if the connection dies for any reason, the run is cancelled and the process is killed.

There are two messages in this protocol: "request" messages are sent client->server, and "response" messages are sent server->client. The schema for these messages is described in types.go.

The protocol proceeds as follows:

 1. The client opens a WebSocket connection with the server.
 2. The client sends a request message containing the RunRequest.
 3. The server starts the process and sends a "started" message, or an "error" message if it could not be launched.
 4. The server sends a "stdout" or "stderr" message for each line of output, in the order the process dispatched them.
    The client may send stdin text, close stdin, or cancel the run.
 5. When the process has exited and all of its output has been sent, the server sends an "exited" message with the exit code and status.
 6. The client initiates closing of the WebSocket connection.
*/
package wsrun
