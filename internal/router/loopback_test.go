package router

import "net"

// newLoopbackListener and dialLoopback give tests a real net.Conn pair
// to hand to a peer, since wire.WriteChunk needs an actual io.Writer
// that can fail like a socket rather than a bytes.Buffer stand-in.
func newLoopbackListener() (net.Listener, error) {
	return net.Listen("tcp", "127.0.0.1:0")
}

func dialLoopback(l net.Listener) (net.Conn, error) {
	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		return nil, err
	}
	go l.Accept()
	return conn, nil
}
