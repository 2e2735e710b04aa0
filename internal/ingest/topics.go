package ingest

// RecommendedTopics is a curated set of high-volume clinical topics for
// seeding an evidence base without hand-writing a topics file.
var RecommendedTopics = []string{
	"type 2 diabetes management",
	"hypertension treatment",
	"heart failure with reduced ejection fraction",
	"atrial fibrillation anticoagulation",
	"chronic kidney disease progression",
	"COPD exacerbation",
	"asthma control",
	"community acquired pneumonia",
	"sepsis management",
	"acute ischemic stroke",
	"major depressive disorder treatment",
	"anxiety disorders therapy",
	"osteoporosis prevention",
	"rheumatoid arthritis biologics",
	"inflammatory bowel disease",
	"breast cancer screening",
	"colorectal cancer screening",
	"statin therapy cardiovascular prevention",
	"obesity pharmacotherapy",
	"migraine prophylaxis",
}

// TopicJobs builds pending topic jobs for each topic with a shared cap.
func TopicJobs(topics []string, maxPerTopic int) []*Job {
	jobs := make([]*Job, 0, len(topics))
	for _, t := range topics {
		jobs = append(jobs, NewTopicJob(t, maxPerTopic))
	}
	return jobs
}
