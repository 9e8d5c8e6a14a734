// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

/*
Package streaming implements a multiplexed request/response transport over a single duplex socket.

Either end of a connection may issue HTTP-like requests (a verb, a path and zero or more content streams) and receive responses (a status code and zero or more content streams). Many exchanges may be in flight at once; they share the socket by interleaving frames.

A frame is a 48 byte ASCII header followed by up to 999999 payload bytes. The header carries the payload type, the payload length, a UUID correlation id and an end flag, separated by dots and terminated by a newline:

	A.000042.5e43b0b1-1c3e-4e8f-9a3c-2f1d7c6e0b11.1\n

Type A is a request header, B a response header and S the body of one content stream, each stream having its own id. X and C frames cancel partially received payloads. Payloads larger than one frame are split and reassembled per id.

A Sender owns the single writer of a socket and a Receiver owns its reader and the per id reassembly buffers. The ProtocolAdapter converts requests and responses to payloads, correlating outbound requests with their responses through a RequestManager and serving inbound requests with a RequestHandler.

A Client dials a target (ws://, wss://, tcp:// or unix://) and reconnects once after each lost connection when AutoReconnect is set. A Host accepts native sockets and WebSocket upgrades and runs a Server for each. A Gateway forwards plain HTTP requests over a connection, and HTTPHandler and ReverseProxy serve inbound requests with net/http handlers or an upstream HTTP server.
*/
package streaming
