package tensors

import (
	"encoding/gob"
	"os"
	"reflect"

	"github.com/pkg/errors"

	"github.com/gograd/gograd/types/shapes"
)

// GobSerialize the Tensor in binary format: the shape followed by the flat data.
//
// It returns an error for I/O errors. It panics for invalid tensors.
func (t *Tensor) GobSerialize(encoder *gob.Encoder) (err error) {
	t.AssertValid()
	err = t.shape.GobSerialize(encoder)
	if err != nil {
		return
	}
	t.ConstFlatData(func(flat any) {
		err = encoder.Encode(flat)
		if err != nil {
			err = errors.Wrapf(err, "failed to write Tensor data")
		}
	})
	return
}

// GobDeserialize a Tensor from the decoder. Returns the new Tensor or an error.
func GobDeserialize(decoder *gob.Decoder) (t *Tensor, err error) {
	shape, err := shapes.GobDeserialize(decoder)
	if err != nil {
		err = errors.WithMessagef(err, "failed to deserialize Tensor shape")
		return
	}
	flatPtrV := reflect.New(reflect.SliceOf(shape.DType.GoType()))
	err = decoder.Decode(flatPtrV.Interface())
	if err != nil {
		err = errors.Wrapf(err, "failed to deserialize Tensor data")
		return
	}
	// Use the slice returned by the decoder directly, to avoid a copy.
	t = &Tensor{shape: shape, flat: flatPtrV.Elem().Interface()}
	if reflect.ValueOf(t.flat).Len() != shape.Size() {
		return nil, errors.Errorf("deserialized Tensor data has %d elements, shape %s requires %d",
			reflect.ValueOf(t.flat).Len(), shape, shape.Size())
	}
	return
}

// Save the Tensor to the given file path: the file is created (or truncated)
// and the tensor serialized with GobSerialize.
func (t *Tensor) Save(filePath string) (err error) {
	t.AssertValid()
	var f *os.File
	f, err = os.Create(filePath)
	if err != nil {
		err = errors.Wrapf(err, "creating %q to save tensor", filePath)
		return
	}
	enc := gob.NewEncoder(f)
	err = t.GobSerialize(enc)
	if err != nil {
		err = errors.WithMessagef(err, "saving Tensor to %q", filePath)
		return
	}
	err = f.Close()
	if err != nil {
		err = errors.Wrapf(err, "closing %q, where tensor was saved", filePath)
		return
	}
	return
}

// Load a Tensor from the given file path.
//
// If the file does not exist, the unwrapped os error is returned, so it can be
// checked with os.IsNotExist.
func Load(filePath string) (t *Tensor, err error) {
	f, err := os.Open(filePath)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		err = errors.Wrapf(err, "opening %q to load Tensor", filePath)
		return
	}
	dec := gob.NewDecoder(f)
	t, err = GobDeserialize(dec)
	if err != nil {
		err = errors.WithMessagef(err, "loading Tensor from %q", filePath)
		return
	}
	_ = f.Close()
	return
}
