package plugin

import (
	"github.com/opal-lang/shellcore/core/value"
	"github.com/opal-lang/shellcore/runtime/pipeline"
	"github.com/opal-lang/shellcore/runtime/stream"
)

// DefaultHighWaterMark is the number of unacknowledged Data sends a stream
// writer allows before blocking. Every ListStream and byte-stream body this
// package sends uses it; an exit-code stream uses 1.
const DefaultHighWaterMark = 8

// SendPipelineData serializes pd into a header describing its shape,
// spawning a goroutine to pump any stream body (ListStream or
// ExternalStream byte streams) through conn's stream manager as the
// receiver acks it. The returned header is what travels inside a
// CallResponse/EngineCallResponse/CallInfo envelope; the body follows as
// independent Stream frames.
func SendPipelineData(conn *Conn, pd pipeline.PipelineData, span value.Span) (PipelineDataHeader, error) {
	switch pd.Kind {
	case pipeline.KindEmpty:
		return PipelineDataHeader{Kind: HeaderEmpty}, nil
	case pipeline.KindValue:
		v, _ := pd.Value()
		return PipelineDataHeader{Kind: HeaderValue, Value: &v}, nil
	case pipeline.KindListStream:
		ls, _ := pd.ListStream()
		id := conn.NewStreamID()
		go pumpListStream(conn, id, ls)
		return PipelineDataHeader{Kind: HeaderListStream, ListStreamID: uint64(id)}, nil
	case pipeline.KindExternalStream:
		ext, _ := pd.External()
		hdr := PipelineDataHeader{Kind: HeaderExternalStream, TrimEndNewline: ext.TrimEndNewline}
		if ext.Stdout != nil {
			id := conn.NewStreamID()
			hdr.StdoutStreamID, hdr.HasStdout = uint64(id), true
			go pumpByteStream(conn, id, ext.Stdout)
		}
		if ext.Stderr != nil {
			id := conn.NewStreamID()
			hdr.StderrStreamID, hdr.HasStderr = uint64(id), true
			go pumpByteStream(conn, id, ext.Stderr)
		}
		if ext.ExitCode != nil {
			id := conn.NewStreamID()
			hdr.ExitCodeStreamID, hdr.HasExitCode = uint64(id), true
			go pumpExitCode(conn, id, ext.ExitCode)
		}
		return hdr, nil
	default:
		v, err := pd.IntoValue(span)
		if err != nil {
			return PipelineDataHeader{}, err
		}
		return PipelineDataHeader{Kind: HeaderValue, Value: &v}, nil
	}
}

func pumpListStream(conn *Conn, id stream.ID, ls *pipeline.ListStream) {
	w := conn.Streams.RegisterWriter(id, DefaultHighWaterMark)
	for {
		v, ok, err := ls.Next()
		if err != nil || !ok {
			_ = w.End(func() error { return conn.SendStreamFrame(StreamMessage{StreamID: uint64(id), Kind: StreamEnd}) })
			return
		}
		sendErr := w.Send(stream.Data{Values: []value.Value{v}}, func(d stream.Data) error {
			return conn.SendStreamFrame(StreamMessage{StreamID: uint64(id), Kind: StreamData, Values: d.Values})
		})
		if sendErr != nil {
			return
		}
	}
}

func pumpByteStream(conn *Conn, id stream.ID, bs *pipeline.ByteStream) {
	w := conn.Streams.RegisterWriter(id, DefaultHighWaterMark)
	const chunkSize = 64 * 1024
	buf, err := bs.ReadAll()
	if err != nil {
		_ = w.End(func() error { return conn.SendStreamFrame(StreamMessage{StreamID: uint64(id), Kind: StreamEnd}) })
		return
	}
	for len(buf) > 0 {
		n := chunkSize
		if n > len(buf) {
			n = len(buf)
		}
		chunk := buf[:n]
		buf = buf[n:]
		sendErr := w.Send(stream.Data{Bytes: chunk}, func(d stream.Data) error {
			return conn.SendStreamFrame(StreamMessage{StreamID: uint64(id), Kind: StreamData, Bytes: d.Bytes})
		})
		if sendErr != nil {
			return
		}
	}
	_ = w.End(func() error { return conn.SendStreamFrame(StreamMessage{StreamID: uint64(id), Kind: StreamEnd}) })
}

func pumpExitCode(conn *Conn, id stream.ID, fut *pipeline.ExitCodeFuture) {
	w := conn.Streams.RegisterWriter(id, 1)
	code, err := fut.Wait()
	if err != nil {
		code = -1
	}
	v := value.Int(int64(code), value.Span{})
	_ = w.Send(stream.Data{Values: []value.Value{v}}, func(d stream.Data) error {
		return conn.SendStreamFrame(StreamMessage{StreamID: uint64(id), Kind: StreamData, Values: d.Values})
	})
	_ = w.End(func() error { return conn.SendStreamFrame(StreamMessage{StreamID: uint64(id), Kind: StreamEnd}) })
}

// ReceivePipelineData reconstructs a lazy PipelineData from a header
// received over the wire, registering stream readers for any referenced
// stream_id. The returned PipelineData pulls frames on demand exactly like
// any other ListStream/ExternalStream, so a plugin result is never
// eagerly materialized by the receiving side.
func ReceivePipelineData(conn *Conn, hdr PipelineDataHeader) pipeline.PipelineData {
	switch hdr.Kind {
	case HeaderEmpty:
		return pipeline.Empty()
	case HeaderValue:
		if hdr.Value == nil {
			return pipeline.Empty()
		}
		return pipeline.FromValue(*hdr.Value)
	case HeaderListStream:
		return pipeline.FromListStream(receiveListStream(conn, stream.ID(hdr.ListStreamID)))
	case HeaderExternalStream:
		ext := &pipeline.ExternalStream{TrimEndNewline: hdr.TrimEndNewline}
		if hdr.HasStdout {
			ext.Stdout = receiveByteStream(conn, stream.ID(hdr.StdoutStreamID))
		}
		if hdr.HasStderr {
			ext.Stderr = receiveByteStream(conn, stream.ID(hdr.StderrStreamID))
		}
		if hdr.HasExitCode {
			ext.ExitCode = receiveExitCode(conn, stream.ID(hdr.ExitCodeStreamID))
		}
		return pipeline.FromExternalStream(ext)
	default:
		return pipeline.Empty()
	}
}

func receiveListStream(conn *Conn, id stream.ID) *pipeline.ListStream {
	r, err := conn.Streams.RegisterReader(id)
	if err != nil {
		return pipeline.NewListStreamFromSlice(nil)
	}
	var buf []value.Value
	return pipeline.NewListStreamFromFunc(func() (value.Value, bool, error) {
		for len(buf) == 0 {
			d, ok, err := r.Next()
			if err != nil {
				return value.Value{}, false, err
			}
			if !ok {
				return value.Value{}, false, nil
			}
			buf = d.Values
		}
		v := buf[0]
		buf = buf[1:]
		return v, true, nil
	})
}

func receiveByteStream(conn *Conn, id stream.ID) *pipeline.ByteStream {
	r, err := conn.Streams.RegisterReader(id)
	if err != nil {
		return pipeline.NewByteStream(func() ([]byte, bool, error) { return nil, false, nil })
	}
	return pipeline.NewByteStream(func() ([]byte, bool, error) {
		d, ok, err := r.Next()
		if err != nil || !ok {
			return nil, false, err
		}
		return d.Bytes, true, nil
	})
}

func receiveExitCode(conn *Conn, id stream.ID) *pipeline.ExitCodeFuture {
	r, err := conn.Streams.RegisterReader(id)
	if err != nil {
		return pipeline.NewExitCodeFuture(func() (int, error) { return 0, nil })
	}
	return pipeline.NewExitCodeFuture(func() (int, error) {
		d, ok, err := r.Next()
		if err != nil {
			return 0, err
		}
		if !ok || len(d.Values) == 0 {
			return 0, nil
		}
		code, _ := d.Values[0].AsInt()
		return int(code), nil
	})
}
