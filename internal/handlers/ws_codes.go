package handlers

// Application close codes for the room websocket.
const (
	BadSubprotocolError   = 3000 // client did not negotiate the room subprotocol
	InvalidRoomIDError    = 3003 // room vanished between the seat check and the snapshot
	SubscriptionLostError = 3006
)
