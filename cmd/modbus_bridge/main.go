// Command modbus_bridge shares a serial Modbus drive over HTTP, for use
// with an actuator url in the detents configuration.
package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/goburrow/modbus"
	"github.com/gorilla/mux"
	"github.com/w1xm/detent_knob/internal/modbus/modbushttp"
)

var (
	addr       = flag.String("addr", "127.0.0.1:8502", "address to listen on")
	serialPort = flag.String("port", "", "drive serial port name")
	baud       = flag.Int("baud", 19200, "drive baud rate")
)

func main() {
	flag.Parse()
	handler := modbus.NewRTUClientHandler(*serialPort)
	handler.BaudRate = *baud
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.Timeout = 1 * time.Second
	if err := handler.Connect(); err != nil {
		log.Fatalf("opening %q: %v", *serialPort, err)
	}
	defer handler.Close()

	r := mux.NewRouter()
	r.Handle("/api/send", &modbushttp.Handler{Transporter: handler}).Methods(http.MethodPost)
	srv := &http.Server{
		Handler:      r,
		Addr:         *addr,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	log.Printf("Listening on %v", srv.Addr)
	log.Fatal(srv.ListenAndServe())
}
