// Package cameracapture bridges a camera producer and a tracking consumer.
//
// Raw frames arrive from the camera callback goroutine as YUV 4:2:0 planes
// or packed NV21. They are decoded to interleaved RGB, rotated and mirrored
// to match the sensor orientation, and handed to a single consumer as the
// latest ready frame. Older unconsumed frames are dropped, never queued.
//
// # Stream mode
//
//	c, err := cameracapture.NewStreamCapture(cameracapture.StreamConfig{
//	    Width:       640,
//	    Height:      480,
//	    Orientation: 90,
//	})
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	// camera callback goroutine
//	err = c.WriteFrameYUV420(y, u, v, tsMillis, pixelStride)
//
//	// tracking goroutine
//	for {
//	    frame, ok := c.GrabFrame() // waits up to 2s
//	    if !ok {
//	        continue
//	    }
//	    track(frame.Pix, frame.Width, frame.Height) // 480x640 RGB
//	}
//
// # Image mode
//
// NewImageCapture keeps already decoded images (RGB, BGR, luminance, RGBA
// or BGRA). GrabFrame never blocks and returns a copy of the latest image.
//
// # Parameter changes
//
// A capture never resizes. Bridge owns the current capture and rebuilds it
// on the next producer write after SetParameters, so the consumer keeps
// grabbing without coordinating with the camera side.
//
// # Concurrency
//
// One producer goroutine and one consumer goroutine per capture. The frame
// returned by GrabFrame stays valid until the next GrabFrame. Close must
// only be called once the producer stopped writing.
package cameracapture
