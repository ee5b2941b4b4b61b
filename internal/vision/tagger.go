package vision

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const side = 224

var (
	channelMean = [3]float32{0.485, 0.456, 0.406}
	channelStd  = [3]float32{0.229, 0.224, 0.225}
)

// Tag is one predicted class for a photo.
type Tag struct {
	Label string  `json:"label"`
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// PhotoTagger runs an ImageNet-style ONNX classifier over photo evidence and
// reports the strongest classes as hints for the summarizer. The session is
// built on first use.
type PhotoTagger struct {
	mu sync.Mutex

	modelPath  string
	labelsPath string
	libPath    string
	topK       int

	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	labels  []string
	ready   bool
}

func NewPhotoTagger(modelPath, labelsPath, libPath string, topK int) *PhotoTagger {
	if topK <= 0 {
		topK = 5
	}
	return &PhotoTagger{
		modelPath:  modelPath,
		labelsPath: labelsPath,
		libPath:    libPath,
		topK:       topK,
	}
}

// Labels returns the names of the top classes, strongest first.
func (t *PhotoTagger) Labels(data []byte) ([]string, error) {
	tags, err := t.Tag(data)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag.Label != "" {
			names = append(names, tag.Label)
		}
	}
	return names, nil
}

func (t *PhotoTagger) Tag(data []byte) ([]Tag, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode photo failed: %w", err)
	}
	tensor := toTensor(img)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.load(); err != nil {
		return nil, err
	}

	in := t.input.GetData()
	if len(in) != len(tensor) {
		return nil, fmt.Errorf("model expects %d inputs, got %d", len(in), len(tensor))
	}
	copy(in, tensor)
	if err := t.session.Run(); err != nil {
		return nil, fmt.Errorf("run photo model failed: %w", err)
	}
	return topTags(t.output.GetData(), t.labels, t.topK), nil
}

// Close releases the ONNX session and tensors.
func (t *PhotoTagger) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ready {
		return
	}
	_ = t.session.Destroy()
	_ = t.input.Destroy()
	_ = t.output.Destroy()
	t.ready = false
}

// load must be called with mu held.
func (t *PhotoTagger) load() error {
	if t.ready {
		return nil
	}
	if t.libPath != "" {
		ort.SetSharedLibraryPath(t.libPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("init onnx environment failed: %w", err)
		}
	}

	f, err := os.Open(t.labelsPath)
	if err != nil {
		return fmt.Errorf("open labels failed: %w", err)
	}
	labels, err := readLabels(f)
	_ = f.Close()
	if err != nil {
		return err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(t.modelPath)
	if err != nil {
		return fmt.Errorf("inspect photo model failed: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return fmt.Errorf("photo model has no inputs or outputs")
	}

	input, err := ort.NewEmptyTensor[float32](inputs[0].Dimensions)
	if err != nil {
		return fmt.Errorf("allocate input tensor failed: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](outputs[0].Dimensions)
	if err != nil {
		_ = input.Destroy()
		return fmt.Errorf("allocate output tensor failed: %w", err)
	}
	session, err := ort.NewAdvancedSession(t.modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		_ = output.Destroy()
		_ = input.Destroy()
		return fmt.Errorf("create photo model session failed: %w", err)
	}

	t.labels = labels
	t.input = input
	t.output = output
	t.session = session
	t.ready = true
	return nil
}

func readLabels(r io.Reader) ([]string, error) {
	var labels []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		labels = append(labels, strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read labels failed: %w", err)
	}
	return labels, nil
}

func topTags(scores []float32, labels []string, k int) []Tag {
	tags := make([]Tag, len(scores))
	for i, s := range scores {
		tags[i] = Tag{Index: i, Score: s}
		if i < len(labels) {
			tags[i].Label = labels[i]
		}
	}
	sort.SliceStable(tags, func(i, j int) bool { return tags[i].Score > tags[j].Score })
	if k > len(tags) {
		k = len(tags)
	}
	return tags[:k]
}

// toTensor scales img to side x side and lays it out as normalized NCHW floats.
func toTensor(img image.Image) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	const plane = side * side
	out := make([]float32, 3*plane)
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			px := dst.RGBAAt(x, y)
			i := y*side + x
			out[i] = (float32(px.R)/255 - channelMean[0]) / channelStd[0]
			out[plane+i] = (float32(px.G)/255 - channelMean[1]) / channelStd[1]
			out[2*plane+i] = (float32(px.B)/255 - channelMean[2]) / channelStd[2]
		}
	}
	return out
}
