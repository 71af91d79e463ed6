package config

import "errors"

// ErrInvalidArgument marks configuration errors: unknown optimizer, search space,
// dataset or a malformed value. They are fatal and surface before any work starts.
var ErrInvalidArgument = errors.New("invalid argument")

// Known names accepted by the registries.
var (
	Optimizers   = []string{"bananas", "oneshot", "rsws", "rs", "re"}
	SearchSpaces = []string{"nasbench101", "nasbench201", "darts"}
	Datasets     = []string{"synthetic", "cifar10", "cifar100", "ImageNet16-120"}
	Predictors   = []string{"oneshot", "ensemble"}
)

// Config is the full experiment configuration.
type Config struct {
	Optimizer   string `yaml:"optimizer"`
	SearchSpace string `yaml:"search_space"`
	Dataset     string `yaml:"dataset"`
	Predictor   string `yaml:"predictor"`
	Seed        int64  `yaml:"seed"`

	OutDir        string `yaml:"out_dir"`
	ConfigType    string `yaml:"config_type"`
	Save          string `yaml:"save"`
	DataPath      string `yaml:"data_path"`
	BenchmarkPath string `yaml:"benchmark_path"`
	ResumeFrom    string `yaml:"resume_from"`
	Resume        bool   `yaml:"resume"`

	// Scope restricts which search-space regions the optimizer may change.
	Scope []string `yaml:"scope"`

	LogLevel          string `yaml:"log_level"`
	LightweightOutput bool   `yaml:"lightweight_output"`

	Search     SearchConfig     `yaml:"search"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
}

// SearchConfig holds search-phase and optimizer-specific hyperparameters.
type SearchConfig struct {
	Epochs          int     `yaml:"epochs"`
	BatchSize       int     `yaml:"batch_size"`
	LearningRate    float64 `yaml:"learning_rate"`
	LearningRateMin float64 `yaml:"learning_rate_min"`
	Momentum        float64 `yaml:"momentum"`
	WeightDecay     float64 `yaml:"weight_decay"`
	GradClip        float64 `yaml:"grad_clip"`
	TrainPortion    float64 `yaml:"train_portion"`
	CheckpointFreq  int     `yaml:"checkpoint_freq"`

	ArchLearningRate float64 `yaml:"arch_learning_rate"`
	ArchWeightDecay  float64 `yaml:"arch_weight_decay"`
	HiddenDim        int     `yaml:"hidden_dim"`

	// Bananas
	NumInit           int     `yaml:"num_init"`
	K                 int     `yaml:"k"`
	NumEnsemble       int     `yaml:"num_ensemble"`
	AcqFnType         string  `yaml:"acq_fn_type"`
	AcqFnOptimization string  `yaml:"acq_fn_optimization"`
	NumArchToMutate   int     `yaml:"num_arch_to_mutate"`
	MaxMutations      int     `yaml:"max_mutations"`
	NumCandidates     int     `yaml:"num_candidates"`
	EncodingType      string  `yaml:"encoding_type"`
	RidgeLambda       float64 `yaml:"ridge_lambda"`

	// Regularized evolution
	PopulationSize int `yaml:"population_size"`
	SampleSize     int `yaml:"sample_size"`

	// Weight sharing
	NumFinalSamples int `yaml:"num_final_samples"`

	// Early stopping; Patience 0 disables it.
	Patience  int     `yaml:"patience"`
	Threshold float64 `yaml:"threshold"`

	// Predictor evaluation
	TrainSizes []int `yaml:"train_sizes"`
	TestSize   int   `yaml:"test_size"`
	KFold      int   `yaml:"kfold"`
}

// EvaluationConfig holds the from-scratch training of the final architecture.
type EvaluationConfig struct {
	Epochs       int     `yaml:"epochs"`
	BatchSize    int     `yaml:"batch_size"`
	LearningRate float64 `yaml:"learning_rate"`
	Momentum     float64 `yaml:"momentum"`
	WeightDecay  float64 `yaml:"weight_decay"`
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	return &Config{
		Optimizer:   "bananas",
		SearchSpace: "nasbench201",
		Dataset:     "cifar10",
		Predictor:   "oneshot",
		Seed:        0,
		OutDir:      "run",
		ConfigType:  "nas_predictor",
		LogLevel:    "info",
		Search: SearchConfig{
			Epochs:            100,
			BatchSize:         64,
			LearningRate:      0.025,
			LearningRateMin:   0.001,
			Momentum:          0.9,
			WeightDecay:       3e-4,
			GradClip:          5,
			TrainPortion:      0.5,
			CheckpointFreq:    10,
			ArchLearningRate:  3e-4,
			ArchWeightDecay:   1e-3,
			HiddenDim:         16,
			NumInit:           10,
			K:                 10,
			NumEnsemble:       5,
			AcqFnType:         "its",
			AcqFnOptimization: "mutation",
			NumArchToMutate:   2,
			MaxMutations:      1,
			NumCandidates:     100,
			EncodingType:      "adjacency_one_hot",
			RidgeLambda:       1e-2,
			PopulationSize:    30,
			SampleSize:        10,
			NumFinalSamples:   100,
			Threshold:         1e-3,
			TrainSizes:        []int{10, 20, 50, 100},
			TestSize:          100,
			KFold:             3,
		},
		Evaluation: EvaluationConfig{
			Epochs:       20,
			BatchSize:    64,
			LearningRate: 0.025,
			Momentum:     0.9,
			WeightDecay:  3e-4,
		},
	}
}
